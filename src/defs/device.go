package defs

// D_CONSOLE is the device number the simulated console reports to any
// caller that asks which device backs its stdio fds.
const D_CONSOLE int = 1
