// Conduit CLI — инструмент командной строки для workflows, runs
// и schedules через HTTP API.
//
// Использование:
//
//	conduit [--api-url URL] [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	workflow  Управление workflows и их версиями
//	run       Управление runs
//	schedule  Управление schedules
//	execute   Отправка inline-определения
//	status    Статус run
//	actions   Каталог типов шагов
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/Conduit/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	rootCmd := cli.NewRootCmd(version, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
