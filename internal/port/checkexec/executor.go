// Package checkexec defines the port for check executors: the polymorphic
// contract behind forge-workflow and local-script check kinds.
package checkexec

import (
	"context"
	"fmt"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/repository"
)

// Executor runs a single configured check against a pull request.
type Executor interface {
	Execute(ctx context.Context, c check.Configuration, repo repository.Repository, pr pullrequest.PullRequest) (check.ExecutionResult, error)
}

type ErrorKind string

const (
	KindInvalidConfiguration  ErrorKind = "invalid_configuration"
	KindScriptNotFound        ErrorKind = "script_not_found"
	KindScriptNotExecutable   ErrorKind = "script_not_executable"
	KindPollingTimeout        ErrorKind = "polling_timeout"
	KindProcessExecutionFailed ErrorKind = "process_execution_failed"
	KindGatewayError          ErrorKind = "gateway_error"
)

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkexec: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("checkexec: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidConfiguration(msg string) error {
	return &Error{Kind: KindInvalidConfiguration, Msg: msg}
}
func ScriptNotFound(path string) error {
	return &Error{Kind: KindScriptNotFound, Msg: path}
}
func ScriptNotExecutable(path string) error {
	return &Error{Kind: KindScriptNotExecutable, Msg: path}
}
func PollingTimeout(after time.Duration) error {
	return &Error{Kind: KindPollingTimeout, Msg: after.String()}
}
func ProcessExecutionFailed(err error) error {
	return &Error{Kind: KindProcessExecutionFailed, Err: err}
}
func GatewayError(err error) error {
	return &Error{Kind: KindGatewayError, Err: err}
}
