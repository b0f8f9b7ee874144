package rumpxen

// defaultParams is the fixed small table of environment parameters
// getparam looks up (spec §6 "Environment parameters").
var defaultParams = map[string]string{
	"_RUMPUSER_NCPU":     "1",
	"_RUMPUSER_HOSTNAME": "rump4xen",
	"RUMP_VERBOSE":       "1",
	"RUMP_MEMLIMIT":      "8m",
}
