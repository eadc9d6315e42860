package version

// Current is the release version of cropreport, without a leading "v".
const Current = "0.1.0"
