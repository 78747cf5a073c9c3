package env

import (
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

var values map[string]string

// GetEnv resolves a key from the loaded .env file, then the process
// environment, then the given default.
func GetEnv(key, def string) string {
	if v, ok := values[key]; ok {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupEnvFile loads the first .env file found walking up from the working
// directory. Missing files are tolerated so containerized deployments can
// rely on the process environment alone.
func SetupEnvFile() {
	for _, path := range []string{".env", "../../.env", "../../../.env"} {
		loaded, err := godotenv.Read(path)
		if err != nil {
			continue
		}
		values = loaded
		return
	}
	log.Warn("[Env] no .env file found, using process environment only")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
