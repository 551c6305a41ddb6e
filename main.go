package main

import "github.com/frahmantamala/repairshop/cmd"

func main() {
	cmd.Execute()
}
