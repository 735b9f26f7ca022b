package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env if present so GHOSTTAB_* overrides work in dev runs.
	_ = godotenv.Load()

	var root = &cobra.Command{Use: "ghosttab"}

	root.AddCommand(serveCMD(), migrateCMD())
	_ = root.Execute()
}
