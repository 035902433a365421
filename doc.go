// Package mmcspi implements a block-device driver for MMC and SD memory
// cards operated over a synchronous serial bus (SPI) in legacy
// single-data-line mode.
//
// The package hides the card's command/response protocol, the
// power-up classification handshake (MMC vs SD v1 vs SD v2, standard
// or high capacity), and the data-token framing used for 512-byte
// block transfers, presenting instead a sector-addressed
// read/write/ioctl surface compatible with a conventional embedded
// FAT filesystem layer.
//
// The driver does not own a bus: callers supply a Bus implementation
// (see bus.go) bound to a chip-select line. The spi subpackage
// supplies one concrete implementation backed by a Linux SPI
// character device and a Linux GPIO chip-select line.
package mmcspi
