package app

type Config struct {
	ListenAddr string
	DBDriver   string
	DBPath     string
}
