// Package gcerrors defines the typed error kinds the garbage collection
// orchestrator surfaces, mirroring a familiar kind-plus-status-conversion
// error shape but scoped to the orchestrator's own failure taxonomy instead
// of transport-facing API errors.
package gcerrors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies one of the error categories the orchestrator can
// terminate a run with.
type Kind string

const (
	KindBuildGraph          Kind = "build_graph"
	KindClassification      Kind = "classification"
	KindMarkVersions        Kind = "mark_versions"
	KindDeleteVersions      Kind = "delete_versions"
	KindDeleteFiles         Kind = "delete_files"
	KindDeleteLogs          Kind = "delete_logs"
	KindListFiles           Kind = "list_files"
	KindMissingVersionFile  Kind = "missing_version_file"
	KindInvariantViolation  Kind = "invariant_violation"
	KindUnparsableID        Kind = "unparsable_id"
	KindSysDbMethodFailed   Kind = "sysdb_method_failed"
	KindChannel             Kind = "channel"
	KindPanic               Kind = "panic"
	KindAborted             Kind = "aborted"
	KindReceiverDropped     Kind = "receiver_dropped"
)

// Error wraps an underlying cause with the Kind that classifies it and the
// operation (collection id, version, path...) it occurred against, so log
// lines and the final response both carry enough context to act on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for the given kind, operation label, and cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf constructs an *Error whose cause is fmt.Errorf(format, args...).
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsInvariantViolation reports whether err is an InvariantViolation, the
// category that indicates a defensive check tripped rather than a remote
// call failing.
func IsInvariantViolation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindInvariantViolation
}

// Status converts err into a gRPC status, for services that front the
// orchestrator with a gRPC API (e.g. a coordinator RPC that triggers a run
// and wants to relay failure class to its caller).
func Status(err error) *status.Status {
	kind, ok := KindOf(err)
	if !ok {
		return status.New(codes.Unknown, err.Error())
	}
	switch kind {
	case KindMissingVersionFile, KindUnparsableID:
		return status.New(codes.NotFound, err.Error())
	case KindInvariantViolation:
		return status.New(codes.FailedPrecondition, err.Error())
	case KindAborted:
		return status.New(codes.Aborted, err.Error())
	case KindSysDbMethodFailed, KindBuildGraph, KindClassification,
		KindMarkVersions, KindDeleteVersions, KindDeleteFiles,
		KindDeleteLogs, KindListFiles, KindChannel, KindReceiverDropped:
		return status.New(codes.Internal, err.Error())
	case KindPanic:
		return status.New(codes.Internal, "garbage collector run panicked: "+err.Error())
	default:
		return status.New(codes.Unknown, err.Error())
	}
}
