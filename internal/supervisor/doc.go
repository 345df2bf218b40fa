/*
Package supervisor is the host side of the isolation harness: it spawns
one disposable worker process per engine, speaks the control channel over
the worker's stdin/stdout, and services the nested callback round-trips a
guest execution may issue.

The in-process sandbox cannot catch everything: native crashes, runaway
native loops, kernel-level filter kills. The supervisor exists to turn
all of those into one first-class outcome, worker_unavailable, distinct
from any error the worker reports over the channel. Configuration reaches
the worker as LUAWARD_* environment variables; namespace isolation is
applied here, at spawn, because it must precede the worker's first
instruction.
*/
package supervisor
