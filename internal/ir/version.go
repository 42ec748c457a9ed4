package ir

// Version is the fluxtor release, reported by "fluxtor --version".
const Version = "0.1.0"
