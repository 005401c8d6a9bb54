// Command widgetctl runs the estimate pipeline from a shell: price list
// imports, prompt previews and one-off estimates against a live provider.
package main

func main() {
	execute()
}
