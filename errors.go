package quorumlock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("quorumlock: invalid argument")
	// ErrInvalidHandle is returned by Release for a nil or malformed handle.
	ErrInvalidHandle = errors.New("quorumlock: invalid handle")
	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("quorumlock: manager closed")
	// ErrNodeConnection classifies failures to connect or authenticate to a node.
	ErrNodeConnection = errors.New("quorumlock: node connection failed")
	// ErrNodeOperation classifies failures of a set or delete call on a connected node.
	ErrNodeOperation = errors.New("quorumlock: node operation failed")
)

// Node operation names carried by NodeError.
const (
	OpConnect = "connect"
	OpSet     = "set"
	OpDelete  = "delete"
)

// NodeError reports a failure on a single node. Kind is ErrNodeConnection or
// ErrNodeOperation.
type NodeError struct {
	Node string
	Op   string
	Kind error
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: node %s: %s: %v", e.Kind, e.Node, e.Op, e.Err)
}

func (e *NodeError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newNodeError(node Node, op string, err error) *NodeError {
	kind := ErrNodeOperation
	if op == OpConnect {
		kind = ErrNodeConnection
	}
	return &NodeError{Node: node.String(), Op: op, Kind: kind, Err: err}
}

func lockError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
