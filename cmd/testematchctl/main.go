package main

import "github.com/smallbiznis/testematch/internal/cli"

func main() {
	cli.Execute()
}
