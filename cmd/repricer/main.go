package main

import (
	"marketplace-repricer/internal/cli"
)

func main() {
	cli.Execute()
}
