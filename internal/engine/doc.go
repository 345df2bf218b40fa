/*
Package engine embeds a Lua interpreter hardened for untrusted scripts.

# Overview

Each Engine owns one gopher-lua state plus the controls that bound what a
script can do to it:

  - Ledger: byte accounting with checked arithmetic; a grant that would
    exceed the limit raises a catchable "not enough memory" error in the
    guest.
  - budget: a periodic instruction trap, installed per Execute/Call and
    removed on every exit path, that aborts runaway scripts with a fixed
    sentinel so hosts can tell a timeout from a broken script.
  - Profile: the guest namespace is built from an allow-list rather than
    by subtracting from the defaults, the shared string metatable is
    re-pointed at the filtered library, and a deny-list of code-loading
    and reflection primitives is unset last.
  - bridge: host callbacks appear to the guest as plain callables; only
    scalar values cross in either direction.

# Failure classification

Every guest-side failure is caught at the engine boundary and converted
into an *Error with a Kind. Nothing a script does in-process can take the
host down; native-level failures are the worker harness's problem (see
internal/worker and internal/supervisor).

# Concurrency

An Engine is single-threaded and non-reentrant: one guest execution at a
time, which may block on exactly one nested host callback. Run more
engines in more worker processes for parallelism; never share one.
*/
package engine
