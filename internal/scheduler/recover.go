package scheduler

import (
	"fmt"
	"runtime/debug"
)

// recoveringAPI wraps API so that a panic inside any RPC method becomes a
// generic fault reply instead of taking down the whole debile-masterd
// process mid-flight (spec.md §7). net/rpc's ServeCodec gives no per-call
// hook to install middleware around a handler, unlike an http.Handler
// chain, so the recovery boundary has to live on the receiver itself —
// adapted from the pack's RecoveryMiddleware
// (_examples/SimplyLiz-CodeMCP/internal/api/middleware.go) by moving the
// same deferred recover()/log/generic-error pattern from an
// http.HandlerFunc wrapper onto a per-method RPC wrapper.
type recoveringAPI struct {
	*API
}

// withRecover runs fn and turns any panic into a generic error, logging the
// panic value and stack under the method name for operators.
func withRecover(method string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			plog.Errorf("recovered panic in %s: %v\n%s", method, r, debug.Stack())
			err = fmt.Errorf("debile: internal error")
		}
	}()
	return fn()
}

func (r *recoveringAPI) CreateUser(args CreateUserArgs, reply *CreateUserReply) error {
	return withRecover("CreateUser", func() error { return r.API.CreateUser(args, reply) })
}

func (r *recoveringAPI) UpdateUserKeys(args UpdateUserKeysArgs, reply *UpdateUserKeysReply) error {
	return withRecover("UpdateUserKeys", func() error { return r.API.UpdateUserKeys(args, reply) })
}

func (r *recoveringAPI) DisableUser(args DisableUserArgs, reply *DisableUserReply) error {
	return withRecover("DisableUser", func() error { return r.API.DisableUser(args, reply) })
}

func (r *recoveringAPI) CreateBuilder(args CreateBuilderArgs, reply *CreateBuilderReply) error {
	return withRecover("CreateBuilder", func() error { return r.API.CreateBuilder(args, reply) })
}

func (r *recoveringAPI) UpdateBuilderKeys(args UpdateBuilderKeysArgs, reply *UpdateBuilderKeysReply) error {
	return withRecover("UpdateBuilderKeys", func() error { return r.API.UpdateBuilderKeys(args, reply) })
}

func (r *recoveringAPI) DisableBuilder(args DisableBuilderArgs, reply *DisableBuilderReply) error {
	return withRecover("DisableBuilder", func() error { return r.API.DisableBuilder(args, reply) })
}

func (r *recoveringAPI) GetNextJob(args GetNextJobArgs, reply *GetNextJobReply) error {
	return withRecover("GetNextJob", func() error { return r.API.GetNextJob(args, reply) })
}

func (r *recoveringAPI) CloseJob(args CloseJobArgs, reply *CloseJobReply) error {
	return withRecover("CloseJob", func() error { return r.API.CloseJob(args, reply) })
}

func (r *recoveringAPI) ForfeitJob(args ForfeitJobArgs, reply *ForfeitJobReply) error {
	return withRecover("ForfeitJob", func() error { return r.API.ForfeitJob(args, reply) })
}

func (r *recoveringAPI) RerunJob(args RerunJobArgs, reply *RerunJobReply) error {
	return withRecover("RerunJob", func() error { return r.API.RerunJob(args, reply) })
}

func (r *recoveringAPI) RerunCheck(args RerunCheckArgs, reply *RerunCheckReply) error {
	return withRecover("RerunCheck", func() error { return r.API.RerunCheck(args, reply) })
}

func (r *recoveringAPI) RetryFailed(args RetryFailedArgs, reply *RetryFailedReply) error {
	return withRecover("RetryFailed", func() error { return r.API.RetryFailed(args, reply) })
}

func (r *recoveringAPI) Hello(args HelloArgs, reply *HelloReply) error {
	return withRecover("Hello", func() error { return r.API.Hello(args, reply) })
}

func (r *recoveringAPI) Drain(args DrainArgs, reply *DrainReply) error {
	return withRecover("Drain", func() error { return r.API.Drain(args, reply) })
}
