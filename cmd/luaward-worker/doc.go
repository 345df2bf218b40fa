// Command luaward-worker is the disposable process hosting one sandboxed
// Lua engine. It is not meant to be run by hand: a supervisor spawns it
// with LUAWARD_* environment variables set and speaks the control
// protocol over its stdin/stdout. All logging goes to stderr.
package main
