package version

// Current is the classifier release, without a "v" prefix.
const Current = "0.1.0"
