package main

import "github.com/PixelMoon99/storefront-payments/cmd"

func main() {
	cmd.Execute()
}
