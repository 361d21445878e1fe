// ABOUTME: Version and device identity constants
// ABOUTME: Reported in client/hello and on the status screen
package version

const (
	Version      = "0.3.0"
	Product      = "micstream"
	Manufacturer = "Ausculsound"
)
