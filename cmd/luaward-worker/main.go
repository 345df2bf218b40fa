package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/LuaWard/internal/config"
	"github.com/GriffinCanCode/LuaWard/internal/engine"
	"github.com/GriffinCanCode/LuaWard/internal/logging"
	"github.com/GriffinCanCode/LuaWard/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("luaward-worker: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		os.Stderr.WriteString("luaward-worker: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()

	wcfg := worker.Config{
		Engine: engine.Config{
			MemoryLimit:      cfg.Engine.MemoryLimit,
			InstructionLimit: cfg.Engine.InstructionLimit,
			Output:           os.Stderr,
		},
		CallbackNames: cfg.Engine.CallbackNames,
		Isolation: worker.IsolationConfig{
			UID:             cfg.Isolation.UID,
			GID:             cfg.Isolation.GID,
			FullIsolation:   cfg.Isolation.FullIsolation,
			CPULimitSeconds: cfg.Isolation.CPULimitSeconds,
		},
	}

	if err := worker.Run(os.Stdin, os.Stdout, wcfg, log.Logger); err != nil {
		log.Error("worker failed", zap.Error(err))
		os.Exit(1)
	}
}
