// conf/validate.go settings validation
package conf

import (
	"fmt"
	"strconv"

	"github.com/greenledger/qagate/internal/errors"
)

// ValidateSettings checks the loaded settings for configuration errors.
// All problems are reported at once, joined into a single error.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateStoreSettings(&settings.Store); err != nil {
		errs = append(errs, err)
	}
	if err := validateBusSettings(&settings.Bus); err != nil {
		errs = append(errs, err)
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		errs = append(errs, err)
	}
	if err := validateBrokerSettings(&settings.Broker); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateStoreSettings(store *StoreSettings) error {
	if store.SQLite.Enabled && store.MySQL.Enabled {
		return fmt.Errorf("store: sqlite and mysql are mutually exclusive")
	}
	if store.SQLite.Enabled && store.SQLite.Path == "" {
		return fmt.Errorf("store: sqlite enabled but no path configured")
	}
	if store.MySQL.Enabled {
		if store.MySQL.Database == "" || store.MySQL.Host == "" {
			return fmt.Errorf("store: mysql enabled but database or host missing")
		}
		if _, err := strconv.Atoi(store.MySQL.Port); err != nil {
			return fmt.Errorf("store: invalid mysql port %q", store.MySQL.Port)
		}
	}
	return nil
}

func validateBusSettings(bus *BusSettings) error {
	if bus.BufferSize <= 0 {
		return fmt.Errorf("bus: buffersize must be positive, got %d", bus.BufferSize)
	}
	if bus.Workers <= 0 {
		return fmt.Errorf("bus: workers must be positive, got %d", bus.Workers)
	}
	if bus.MaxAttempts <= 0 {
		return fmt.Errorf("bus: maxattempts must be positive, got %d", bus.MaxAttempts)
	}
	if bus.BackoffInitial <= 0 || bus.BackoffMax < bus.BackoffInitial {
		return fmt.Errorf("bus: invalid backoff range %v..%v", bus.BackoffInitial, bus.BackoffMax)
	}
	return nil
}

func validateWebServerSettings(ws *WebServerSettings) error {
	if !ws.Enabled {
		return nil
	}
	port, err := strconv.Atoi(ws.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver: invalid port %q", ws.Port)
	}
	return nil
}

func validateBrokerSettings(broker *BrokerSettings) error {
	if !broker.Enabled {
		return nil
	}
	if broker.URL == "" {
		return fmt.Errorf("broker: enabled but no url configured")
	}
	if broker.TopicPrefix == "" {
		return fmt.Errorf("broker: enabled but no topic prefix configured")
	}
	return nil
}
