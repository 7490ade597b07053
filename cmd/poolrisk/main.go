package main

import (
	"pool-risk-metrics/internal/cli"
)

func main() {
	cli.Execute()
}
