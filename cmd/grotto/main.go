package main

import "github.com/agusx1211/grotto/internal/cli"

func main() {
	cli.Execute()
}
