package commands

import (
	"context"
	"errors"

	"github.com/buildtall-systems/denimtrack/internal/allocation"
	"github.com/buildtall-systems/denimtrack/internal/lifecycle"
	"github.com/buildtall-systems/denimtrack/internal/production"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// Env holds the engines commands run against.
type Env struct {
	Store      store.Store
	Allocation *allocation.Engine
	Production *production.Manager
	Lifecycle  *lifecycle.Engine
}

// Result holds the response from a command execution.
type Result struct {
	Message string
	Error   error
}

// Execute runs the command and returns a result.
func Execute(ctx context.Context, env Env, cmd *Command, mode Mode) Result {
	if err := CanExecute(cmd, mode); err != nil {
		return Result{Error: err}
	}

	switch cmd.Name {
	// Read commands
	case CmdOrders:
		return OrdersCmd(ctx, env)

	case CmdOrder:
		return OrderCmd(ctx, env, cmd.Args)

	case CmdAvailable:
		return AvailableCmd(ctx, env, cmd.Args)

	case CmdRequests:
		return RequestsCmd(ctx, env, cmd.Args)

	case CmdRequest:
		return RequestCmd(ctx, env, cmd.Args)

	case CmdUnit:
		return UnitCmd(ctx, env, cmd.Args)

	case CmdBins:
		return BinsCmd(ctx, env)

	case CmdHelp:
		return HelpCmd(mode)

	// Write commands
	case CmdAllocate:
		return AllocateCmd(ctx, env, cmd.Args)

	case CmdQueue:
		return QueueCmd(ctx, env, cmd.Args)

	case CmdAccept:
		return AcceptCmd(ctx, env, cmd.Args)

	case CmdModify:
		return ModifyCmd(ctx, env, cmd.Args)

	case CmdComplete:
		return CompleteCmd(ctx, env, cmd.Args)

	case CmdScan:
		return ScanCmd(ctx, env, cmd.Args)

	case CmdScanOut:
		return ScanOutCmd(ctx, env, cmd.Args)

	default:
		return Result{Error: errors.New("unknown command")}
	}
}
