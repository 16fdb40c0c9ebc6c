//go:build !linux

package service

import "fmt"

const UnitName = "zpoolmon.service"

func Install() error {
	return fmt.Errorf("service installation is only supported on Linux")
}

func Uninstall() error {
	return fmt.Errorf("service removal is only supported on Linux")
}

func Status() (string, error) {
	return "", fmt.Errorf("service status is only supported on Linux")
}
