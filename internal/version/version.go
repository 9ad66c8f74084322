package version

var (
	Name      = "Claudette"
	ShortName = "claudette"
	Version   = "0.9.0"
	Commit    = "unknown"
	Date      = "unknown"
)

func UserAgent() string {
	return ShortName + "/" + Version
}
