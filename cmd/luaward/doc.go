// Command luaward runs a Lua script file inside an isolated worker with
// the given resource limits. Positional arguments after the flags are
// passed as strings to the -call function.
package main
