//go:build !linux

package pipeline

func limitedArgv(_ string, argv []string, _ Limits) ([]string, bool, error) { return argv, false, nil }

func applyLimits(int, Limits) error { return nil }
