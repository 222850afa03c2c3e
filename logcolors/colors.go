package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"

	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightRed     = "\033[91m"
)

// Cache-related log prefixes
const (
	LogCache         = Blue + "[Cache]" + Reset
	LogCacheJanitor  = Blue + "[Cache:Janitor]" + Reset
	LogCacheClear    = Blue + "[Cache:Clear]" + Reset
	LogCacheRecs     = Green + "[Cache:Recs]" + Reset
	LogCacheSnapshot = Blue + "[Cache:Snapshot]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
	LogAdmin     = Purple + "[Admin]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// genreColors rotate per genre label so related log lines line up visually
var genreColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Genre returns a colored genre label for log messages.
// Same label always gets the same color.
func Genre(label string) string {
	hash := 0
	for _, c := range label {
		hash += int(c)
	}
	color := genreColors[hash%len(genreColors)]
	return color + label + Reset
}

// Server/Init log prefixes
const (
	LogServer   = Green + "[Server]" + Reset
	LogConfig   = Cyan + "[Config]" + Reset
	LogStats    = Blue + "[Stats]" + Reset
	LogHTTP     = Cyan + "[HTTP]" + Reset
	LogNotifier = Yellow + "[Notifier]" + Reset
)

// Pipeline log prefixes
const (
	LogRequest   = Purple + "[Request]" + Reset
	LogExtract   = Cyan + "[Extract]" + Reset
	LogGenre     = Green + "[Genre]" + Reset
	LogCatalog   = Blue + "[Catalog]" + Reset
	LogAggregate = Green + "[Aggregate]" + Reset
	LogRecommend = Green + "[Recommend]" + Reset
	LogWarning   = Red + "[Warning]" + Reset
)
