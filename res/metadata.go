package res

const (
	AppName       = "mediatray"
	DisplayName   = "Media Tray"
	AppVersion    = "0.3.0"
	AppVersionTag = "v" + AppVersion
	ConfigFile    = "config.toml"
	GithubURL     = "https://github.com/dweymouth/mediatray"
)
