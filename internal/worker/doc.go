/*
Package worker implements the disposable process that hosts exactly one
sandboxed engine.

A worker moves through INIT → READY → EXECUTING → READY … → CLOSED, with a
nested EXECUTING → AWAITING_CALLBACK → EXECUTING transition while a guest
call waits on the host. INIT applies the OS restrictions exactly once and
strictly in order (resource limits, then privilege drop, then the syscall
filter), because the filter removes syscalls the earlier steps depend on.
Network isolation happens before the process even starts: the supervisor
spawns workers into fresh user+network namespaces.

The restrictions are one-way. Nothing in this package can lift them, and
a second application attempt fails loudly. A script that escapes the
in-process sandbox at the native level meets the kernel: the seccomp
filter and the hard CPU/address-space limits terminate the whole process,
which the host observes as a distinct worker-death outcome rather than a
script error.
*/
package worker
