package main

import "nexora-analytics/internal/cli"

func main() {
	cli.Execute()
}
