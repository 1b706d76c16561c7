package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buildtall-systems/denimtrack/internal/lifecycle"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// RequestsCmd lists production requests, optionally by status.
// Args: [status]
func RequestsCmd(ctx context.Context, env Env, args []string) Result {
	var status model.ProductionStatus
	if len(args) > 0 {
		status = model.ProductionStatus(strings.ToUpper(args[0]))
		switch status {
		case model.ProductionPending, model.ProductionInProgress, model.ProductionCompleted:
		default:
			return Result{Error: fmt.Errorf("unknown status %s (use PENDING, IN_PROGRESS or COMPLETED)", args[0])}
		}
	}

	requests, err := env.Production.List(ctx, status)
	if err != nil {
		return Result{Error: fmt.Errorf("listing requests: %w", err)}
	}
	if len(requests) == 0 {
		return Result{Message: "No production requests."}
	}
	lines := make([]string, 0, len(requests))
	for _, r := range requests {
		lines = append(lines, fmt.Sprintf("#%-4d %-16s x%-3d %s", r.ID, r.SKU, r.Quantity, r.Status))
	}
	return Result{Message: strings.Join(lines, "\n")}
}

// RequestCmd shows a request with its waitlist in position order.
// Args: [request_id]
func RequestCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: request <request_id>")}
	}
	id, err := parseID("request_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	detail, err := env.Production.Get(ctx, id)
	if err != nil {
		return Result{Error: err}
	}
	r := detail.Request
	msg := fmt.Sprintf("Request %d: %s x%d, %s", r.ID, r.SKU, r.Quantity, r.Status)
	for _, w := range detail.Waitlist {
		msg += fmt.Sprintf("\n  %d. order %d", w.Position, w.OrderID)
	}
	return Result{Message: msg}
}

// QueueCmd puts orders on production requests grouped by universal SKU.
// Args: [order_id...]
func QueueCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: queue <order_id>...")}
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID("order_id", arg)
		if err != nil {
			return Result{Error: err}
		}
		ids = append(ids, id)
	}

	requests, err := env.Production.CreateOrExtend(ctx, ids)
	if err != nil {
		return Result{Error: err}
	}
	lines := make([]string, 0, len(requests))
	for _, r := range requests {
		lines = append(lines, fmt.Sprintf("Request %d: %s x%d", r.ID, r.SKU, r.Quantity))
	}
	return Result{Message: strings.Join(lines, "\n")}
}

// AcceptCmd produces a pending request's units.
// Args: [request_id]
func AcceptCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: accept <request_id>")}
	}
	id, err := parseID("request_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	acc, err := env.Production.Accept(ctx, id)
	if err != nil {
		return Result{Error: err}
	}
	committed := 0
	for _, u := range acc.Units {
		if u.Commitment == model.Committed {
			committed++
		}
	}
	return Result{Message: fmt.Sprintf("Batch %s: %d units, %d committed to orders.", acc.BatchID, len(acc.Units), committed)}
}

// ModifyCmd raises the quantity or length of a pending request.
// Args: [request_id] qty=N len=N
func ModifyCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 2 {
		return Result{Error: errors.New("usage: modify <request_id> qty=<n> len=<n>")}
	}
	id, err := parseID("request_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	var mod production.Modification
	for key, value := range keyValues(args[1:]) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Result{Error: fmt.Errorf("%s must be a number", key)}
		}
		switch key {
		case "qty", "quantity":
			mod.Quantity = &n
		case "len", "length":
			mod.Length = &n
		default:
			return Result{Error: fmt.Errorf("unknown field %s (use qty or len)", key)}
		}
	}
	if mod.Quantity == nil && mod.Length == nil {
		return Result{Error: errors.New("nothing to modify")}
	}

	r, err := env.Production.Modify(ctx, id, mod)
	if err != nil {
		return Result{Error: err}
	}
	return Result{Message: fmt.Sprintf("Request %d: %s x%d", r.ID, r.SKU, r.Quantity)}
}

// CompleteCmd closes an in-progress request.
// Args: [request_id]
func CompleteCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: complete <request_id>")}
	}
	id, err := parseID("request_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	r, err := env.Production.Complete(ctx, id)
	if err != nil {
		return Result{Error: err}
	}
	return Result{Message: fmt.Sprintf("Request %d %s.", r.ID, r.Status)}
}

// ScanCmd applies a scan to a unit.
// Args: [unit] [type] [bin_qr]
func ScanCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 2 {
		return Result{Error: errors.New("usage: scan <unit_id|qr> <TYPE> [bin_qr]")}
	}
	scan := lifecycle.Scan{Type: model.ScanType(strings.ToUpper(args[1]))}
	if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
		scan.UnitID = id
	} else {
		scan.UnitQR = args[0]
	}
	if len(args) > 2 {
		scan.BinQR = args[2]
	}

	res, err := env.Lifecycle.ApplyScan(ctx, scan)
	if err != nil {
		return Result{Error: err}
	}
	msg := fmt.Sprintf("%s: %s %s at %s", res.Unit.QRCode, res.Commitment, res.Stage, res.Unit.Location)
	if res.NextAction != nil {
		msg += "\nNext: " + res.NextAction.Message
	}
	return Result{Message: msg}
}

// ScanOutCmd sends every washing unit in a wash bin to laundry.
// Args: [bin_qr]
func ScanOutCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: scanout <bin_qr>")}
	}
	out, err := env.Lifecycle.ScanOutWashBin(ctx, args[0])
	if err != nil {
		return Result{Error: err}
	}
	if len(out.Units) == 1 {
		return Result{Message: fmt.Sprintf("1 unit from %s sent to laundry.", out.Bin.QRCode)}
	}
	return Result{Message: fmt.Sprintf("%d units from %s sent to laundry.", len(out.Units), out.Bin.QRCode)}
}

// BinsCmd shows the fill level of every active bin.
func BinsCmd(ctx context.Context, env Env) Result {
	bins, err := env.Store.ListBins(ctx, store.BinFilter{ActiveOnly: true})
	if err != nil {
		return Result{Error: fmt.Errorf("listing bins: %w", err)}
	}
	if len(bins) == 0 {
		return Result{Message: "No bins."}
	}
	lines := make([]string, 0, len(bins))
	for _, b := range bins {
		lines = append(lines, fmt.Sprintf("%-16s %-7s %3d/%-3d %s", b.QRCode, b.Type, b.CurrentCount, b.Capacity, b.Zone))
	}
	return Result{Message: strings.Join(lines, "\n")}
}
