package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// parseID reads a positive integer argument.
func parseID(name, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return id, nil
}

// OrdersCmd lists every order with its status and stage.
func OrdersCmd(ctx context.Context, env Env) Result {
	orders, err := env.Store.ListOrders(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("listing orders: %w", err)}
	}
	if len(orders) == 0 {
		return Result{Message: "No orders."}
	}

	var b strings.Builder
	for i, o := range orders {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "#%-4d %-16s %-9s %s", o.ID, o.Target, o.Status, o.Stage)
	}
	return Result{Message: b.String()}
}

// OrderCmd shows one order and what it is bound or waitlisted to.
// Args: [order_id]
func OrderCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: order <order_id>")}
	}
	id, err := parseID("order_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	o, err := env.Store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Error: fmt.Errorf("order %d not found", id)}
	}
	if err != nil {
		return Result{Error: fmt.Errorf("looking up order: %w", err)}
	}

	msg := fmt.Sprintf("Order %d: %s %s/%s, %s at %s", o.ID, o.Target, o.HemType, o.ButtonColor, o.Status, o.Stage)
	if u, err := env.Store.GetUnitByOrder(ctx, id); err == nil {
		msg += fmt.Sprintf("\nUnit: %s (%s) at %s", u.QRCode, u.SKU, u.Location)
	}
	if w, err := env.Store.GetWaitlistEntryByOrder(ctx, id); err == nil {
		msg += fmt.Sprintf("\nWaitlisted: request %d, position %d", w.ProductionRequestID, w.Position)
	}
	return Result{Message: msg}
}

// AvailableCmd reports matching stock without binding it.
// Args: [sku] [quantity]
func AvailableCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: available <sku> [quantity]")}
	}
	target, err := sku.Parse(args[0])
	if err != nil {
		return Result{Error: err}
	}
	quantity := 1
	if len(args) > 1 {
		quantity, err = strconv.Atoi(args[1])
		if err != nil {
			return Result{Error: errors.New("quantity must be a number")}
		}
	}

	avail, err := env.Allocation.Available(ctx, target, quantity)
	if err != nil {
		return Result{Error: err}
	}
	if len(avail.Units) == 0 {
		return Result{Message: fmt.Sprintf("No stock for %s.", target)}
	}
	msg := fmt.Sprintf("%d of %d available for %s (%d exact)", len(avail.Units), quantity, target, avail.Exact)
	for _, u := range avail.Units {
		msg += fmt.Sprintf("\n  %s %s", u.QRCode, u.SKU)
	}
	return Result{Message: msg}
}

// AllocateCmd binds stock to an order or waitlists it for production.
// Args: [order_id]
func AllocateCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: allocate <order_id>")}
	}
	id, err := parseID("order_id", args[0])
	if err != nil {
		return Result{Error: err}
	}

	res, err := env.Allocation.AllocateOrder(ctx, id)
	if err != nil {
		return Result{Error: err}
	}
	switch {
	case len(res.BoundUnits) > 0:
		u := res.BoundUnits[0]
		return Result{Message: fmt.Sprintf("Order %d bound to %s (%s).", id, u.QRCode, u.SKU)}
	case res.Waitlist != nil:
		return Result{Message: fmt.Sprintf("Order %d waitlisted on request %d (%s) at position %d.",
			id, res.ProductionRequest.ID, res.ProductionRequest.SKU, res.Waitlist.Position)}
	default:
		return Result{Message: fmt.Sprintf("Order %d needs no allocation.", id)}
	}
}

// UnitCmd shows a unit by id or QR code with its scan history.
// Args: [unit]
func UnitCmd(ctx context.Context, env Env, args []string) Result {
	if len(args) < 1 {
		return Result{Error: errors.New("usage: unit <unit_id|qr>")}
	}
	u, err := lookupUnit(ctx, env, args[0])
	if err != nil {
		return Result{Error: err}
	}

	events, err := env.Store.ListScanEvents(ctx, u.ID)
	if err != nil {
		return Result{Error: fmt.Errorf("listing scans: %w", err)}
	}
	msg := fmt.Sprintf("%s %s: %s %s at %s", u.QRCode, u.SKU, u.Commitment, u.Stage, u.Location)
	for _, ev := range events {
		status := "ok"
		if !ev.Success {
			status = "FAILED"
			if kind, ok := ev.Metadata["errorKind"].(string); ok {
				status += " " + kind
			}
		}
		msg += fmt.Sprintf("\n  %s %-24s %s", ev.Timestamp.Format("2006-01-02 15:04"), ev.Type, status)
	}
	return Result{Message: msg}
}

func lookupUnit(ctx context.Context, env Env, ref string) (*model.Unit, error) {
	var (
		u   *model.Unit
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		u, err = env.Store.GetUnit(ctx, id)
	} else {
		u, err = env.Store.GetUnitByQR(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.UnitNotFound, "unit %q not found", ref)
	}
	return u, err
}

// HelpCmd lists the commands the session mode allows.
func HelpCmd(mode Mode) Result {
	msg := `Available commands:
  orders                        List orders
  order <id>                    Show an order
  available <sku> [qty]         Matching stock, nothing bound
  requests [status]             List production requests
  request <id>                  Show a request and its waitlist
  unit <id|qr>                  Show a unit and its scans
  bins                          Bin fill levels
  help                          This message`

	if mode == ModeOperator {
		msg += `

Operator commands:
  allocate <order_id>           Bind stock or waitlist the order
  queue <order_id>...           Put orders on production requests
  accept <request_id>           Produce a request's units
  modify <id> qty=N len=N       Raise quantity or length
  complete <request_id>         Close an in-progress request
  scan <unit> <TYPE> [bin_qr]   Apply a scan
  scanout <bin_qr>              Send a wash bin to laundry`
	}

	return Result{Message: msg}
}
