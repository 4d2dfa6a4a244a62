package main

import "vin-service/internal/cli"

func main() {
	cli.Execute()
}
