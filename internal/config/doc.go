// Package config holds the limits/isolation surface shared by the host
// and the worker process.
//
// The host builds or loads a Config, the supervisor renders it into
// LUAWARD_* environment variables for the spawned worker, and the worker
// loads it back with envconfig. Environ and Load are inverses.
//
// Environment Variables:
//   - LUAWARD_MEMORY_LIMIT, LUAWARD_INSTRUCTION_LIMIT, LUAWARD_CALLBACK_NAMES
//   - LUAWARD_UID, LUAWARD_GID, LUAWARD_FULL_ISOLATION, LUAWARD_CPU_LIMIT_SECONDS
//   - LUAWARD_WORKER_PATH, LUAWARD_LOG_LEVEL, LUAWARD_LOG_DEV
package config
