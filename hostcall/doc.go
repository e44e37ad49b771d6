// Package hostcall holds the host-call dispatch table.
//
// Guest modules import host functions from the "sandbox" namespace. Each
// import resolves to a Func in a Table; when the guest calls one, the
// instance yields a Call and the scheduler dispatches it here. The result
// is fed back into the instance on resume.
//
// Handlers get a Memory view that is valid only for the duration of the
// call and must return promptly. A handler error does not fault the host:
// it is reported as a host_call trap on the instance that made the call.
//
// Signatures can be declared with WIT function types:
//
//	t := hostcall.NewTable()
//	t.RegisterWIT("double", "func(x: u64) -> u64", handler)
//
// EnsureLinked registers the built-in handlers (noop, echo, add, sum,
// fail, peek, poke) into the process-wide Default table.
package hostcall
