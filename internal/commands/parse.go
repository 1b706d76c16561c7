package commands

import (
	"strings"
)

// Command represents a parsed console command.
type Command struct {
	Name string   // Command name (lowercase)
	Args []string // Arguments after the command name
}

// Known command names
const (
	// Read commands
	CmdOrders    = "orders"
	CmdOrder     = "order"
	CmdAvailable = "available"
	CmdRequests  = "requests"
	CmdRequest   = "request"
	CmdUnit      = "unit"
	CmdBins      = "bins"
	CmdHelp      = "help"

	// Write commands
	CmdAllocate = "allocate"
	CmdQueue    = "queue"
	CmdAccept   = "accept"
	CmdModify   = "modify"
	CmdComplete = "complete"
	CmdScan     = "scan"
	CmdScanOut  = "scanout"
)

// Parse extracts a command from a console line.
// Returns nil if the line is empty, whitespace or a # comment.
func Parse(line string) *Command {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	parts := strings.Fields(line)
	return &Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// IsReadCommand returns true if the command never writes.
func (c *Command) IsReadCommand() bool {
	switch c.Name {
	case CmdOrders, CmdOrder, CmdAvailable, CmdRequests, CmdRequest, CmdUnit, CmdBins, CmdHelp:
		return true
	default:
		return false
	}
}

// IsWriteCommand returns true if the command changes orders, units or bins.
func (c *Command) IsWriteCommand() bool {
	switch c.Name {
	case CmdAllocate, CmdQueue, CmdAccept, CmdModify, CmdComplete, CmdScan, CmdScanOut:
		return true
	default:
		return false
	}
}

// IsValid returns true if the command name is recognized.
func (c *Command) IsValid() bool {
	return c.IsReadCommand() || c.IsWriteCommand()
}

// keyValues splits key=value arguments. Arguments without '=' are ignored.
func keyValues(args []string) map[string]string {
	kv := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if ok {
			kv[strings.ToLower(k)] = v
		}
	}
	return kv
}
