package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/GriffinCanCode/LuaWard/internal/config"
	"github.com/GriffinCanCode/LuaWard/internal/logging"
	"github.com/GriffinCanCode/LuaWard/internal/supervisor"
)

func main() {
	script := flag.String("script", "", "Path to a Lua script to execute")
	call := flag.String("call", "", "Guest function to call after the script runs")
	memory := flag.Uint64("memory", 5*1024*1024, "Guest memory limit in bytes")
	instructions := flag.Uint64("instructions", 0, "Instruction limit per execution (0 = unbounded)")
	cpu := flag.Uint64("cpu", 0, "Worker CPU time limit in seconds (0 = unbounded)")
	isolate := flag.Bool("isolate", false, "Enable namespace and syscall-filter isolation")
	workerPath := flag.String("worker", "luaward-worker", "Worker binary")
	flag.Parse()

	if *script == "" {
		fmt.Fprintln(os.Stderr, "usage: luaward -script file.lua [-call fn] [flags]")
		os.Exit(2)
	}

	source, err := os.ReadFile(*script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "luaward: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewDefault()
	defer log.Sync()

	cfg := config.Default()
	cfg.Engine.MemoryLimit = *memory
	cfg.Engine.InstructionLimit = *instructions
	cfg.Isolation.FullIsolation = *isolate
	cfg.Isolation.CPULimitSeconds = *cpu
	cfg.Worker.Path = *workerPath

	eng, err := supervisor.Start(supervisor.Config{
		App:    cfg,
		Logger: log.Logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "luaward: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if err := eng.Execute(string(source)); err != nil {
		fmt.Fprintf(os.Stderr, "luaward: %v\n", err)
		os.Exit(1)
	}

	if *call != "" {
		args := make([]interface{}, 0, flag.NArg())
		for _, a := range flag.Args() {
			args = append(args, a)
		}
		val, err := eng.Call(*call, args...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "luaward: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(val.String())
	}
}
