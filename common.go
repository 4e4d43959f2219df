package main

import "strconv"

func isPrintable(b byte) bool {
	return b >= 32 && b <= 126
}

// resolveElevation turns the --elevated flag into the value passed to the
// partition reader. "auto" asks the OS.
func resolveElevation(flag string) (bool, error) {
	if flag == "" || flag == "auto" {
		return isElevated(), nil
	}
	return strconv.ParseBool(flag)
}
