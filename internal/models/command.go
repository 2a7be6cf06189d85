package models

import "time"

// CommandType identifies the MT5-side action a Command asks the EA to take.
type CommandType string

const (
	CommandRollPosition  CommandType = "ROLL_POSITION"
	CommandOpenPosition  CommandType = "OPEN_POSITION"
	CommandClosePosition CommandType = "CLOSE_POSITION"
)

// CommandStatus is the lifecycle state of a dispatched MT5 command.
//
// RETRY is not part of the PENDING→DISPATCHED→{FILLED,REJECTED,CANCELLED}
// happy path; it exists so an operator (or a future automated backoff) can
// push a FAILED-to-dispatch command back into the pending() selection
// pool without losing its dispatch history. pending() treats RETRY
// identically to PENDING.
type CommandStatus string

const (
	CommandPending    CommandStatus = "PENDING"
	CommandRetry      CommandStatus = "RETRY"
	CommandDispatched CommandStatus = "DISPATCHED"
	CommandFilled     CommandStatus = "FILLED"
	CommandRejected   CommandStatus = "REJECTED"
	CommandCancelled  CommandStatus = "CANCELLED"
	CommandPartial    CommandStatus = "PARTIAL"
	CommandUnknown    CommandStatus = "UNKNOWN"
)

// terminalCommandStatuses are the statuses record_execution_report treats
// as completion: they stamp completed_at and stop future pending() lookups
// from returning the command.
var terminalCommandStatuses = map[CommandStatus]bool{
	CommandFilled:    true,
	CommandRejected:  true,
	CommandCancelled: true,
}

// IsTerminalCommandStatus reports whether status ends a Command's lifecycle.
func IsTerminalCommandStatus(status CommandStatus) bool {
	return terminalCommandStatuses[status]
}

// CommandLeg describes one leg of a roll or open: the contract to act on
// and, for a roll's opening leg, the target strike/expiration.
type CommandLeg struct {
	PositionID string     `json:"position_id,omitempty"`
	Ticker     string     `json:"ticker,omitempty"`
	Side       Side       `json:"side,omitempty"`
	Strike     *string    `json:"strike,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	Quantity   int        `json:"quantity,omitempty"`
}

// CommandConstraints caps the EA's execution latitude, e.g. the worst
// premium it may accept before refusing to fill.
type CommandConstraints struct {
	MaxSlippage      *string    `json:"max_slippage,omitempty"`
	MinCreditPremium *string    `json:"min_credit_premium,omitempty"`
	ExpireAfter      *time.Time `json:"expire_after,omitempty"`
}

// ExecutionReport is what the EA posts back to /execution_report to
// reconcile a dispatched Command.
type ExecutionReport struct {
	CommandID  string        `json:"command_id"`
	Status     CommandStatus `json:"status"`
	OrderID    string        `json:"order_id,omitempty"`
	Details    string        `json:"details,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Command is a roll/open/close instruction dispatched to an MT5 terminal
// and tracked until an execution report resolves it.
type Command struct {
	ID            string               `json:"id"`
	Type          CommandType          `json:"type"`
	TerminalID    string               `json:"terminal_id"`
	AccountNumber string               `json:"account_number"`
	PositionID    *string              `json:"position_id,omitempty"`
	CloseLeg      *CommandLeg          `json:"close_leg,omitempty"`
	OpenLeg       *CommandLeg          `json:"open_leg,omitempty"`
	Constraints   *CommandConstraints  `json:"constraints,omitempty"`
	Status        CommandStatus        `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	DispatchedAt  *time.Time           `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	CreatedBy     string               `json:"created_by"`
	LastReport    *ExecutionReport     `json:"last_report,omitempty"`
}

// EligibleForDispatch reports whether pending() should consider this
// command: PENDING and RETRY are equivalent for selection purposes.
func (c *Command) EligibleForDispatch() bool {
	return c.Status == CommandPending || c.Status == CommandRetry
}

// ApplyReport folds an ExecutionReport into the command. PARTIAL and
// ACCEPTED reports preserve dispatched_at and the in-flight state beyond
// recording the report itself; FILLED/REJECTED/CANCELLED stamp
// completed_at and end the lifecycle.
func (c *Command) ApplyReport(report ExecutionReport) {
	c.LastReport = &report
	switch report.Status {
	case CommandPartial, "ACCEPTED":
		if report.Status == CommandPartial {
			c.Status = CommandPartial
		}
	default:
		c.Status = report.Status
		if IsTerminalCommandStatus(report.Status) {
			completedAt := report.ReceivedAt
			c.CompletedAt = &completedAt
		}
	}
}
