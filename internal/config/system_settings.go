package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "RUNHUB_DATABASE_TYPE"
const DATABASE_URL = "RUNHUB_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "RUNHUB_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "RUNHUB_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "RUNHUB_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_BATCH_SIZE = "RUNHUB_ENGINE_BATCH_SIZE"   //number of runs to pull from the database at a time
const ENGINE_WORKER_SIZE = "RUNHUB_ENGINE_WORKER_SIZE" //number of workers, ie the parallel nature of dispatch
const ENGINE_LEASE_MINUTES = "RUNHUB_ENGINE_LEASE_MINUTES"
const ENGINE_HEARTBEAT_INTERVAL = "RUNHUB_ENGINE_HEARTBEAT_INTERVAL"
const ENGINE_MAX_ATTEMPTS = "RUNHUB_ENGINE_MAX_ATTEMPTS"
const ENGINE_REAPER_INTERVAL = "RUNHUB_ENGINE_REAPER_INTERVAL"
const ENGINE_FAILURE_THRESHOLD_PERCENT = "RUNHUB_ENGINE_FAILURE_THRESHOLD_PERCENT"
const ATTRIBUTION_SWEEP_INTERVAL = "RUNHUB_ATTRIBUTION_SWEEP_INTERVAL"
const ATTRIBUTION_WINDOW_HOURS = "RUNHUB_ATTRIBUTION_WINDOW_HOURS"
const DIGEST_TICK_INTERVAL = "RUNHUB_DIGEST_TICK_INTERVAL"
const RECIPIENT_COOLDOWN_HOURS = "RUNHUB_RECIPIENT_COOLDOWN_HOURS"
const PREVIEW_SAMPLE_SIZE = "RUNHUB_PREVIEW_SAMPLE_SIZE"
const ESTIMATE_CACHE_TTL = "RUNHUB_ESTIMATE_CACHE_TTL"
const REDIS_URL = "RUNHUB_REDIS_URL"
const DELIVERY_ENDPOINT = "RUNHUB_DELIVERY_ENDPOINT"
const DELIVERY_SHARED_SECRET = "RUNHUB_DELIVERY_SHARED_SECRET"
const EXECUTOR_NAME = "RUNHUB_EXECUTOR_NAME"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s" // default to 3 seconds
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "5"
	}
	if settingKey == ENGINE_WORKER_SIZE {
		return "5"
	}
	if settingKey == ENGINE_LEASE_MINUTES {
		return "5" // default lease of 5 minutes
	}
	if settingKey == ENGINE_HEARTBEAT_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_MAX_ATTEMPTS {
		return "3"
	}
	if settingKey == ENGINE_REAPER_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_FAILURE_THRESHOLD_PERCENT {
		return "50"
	}
	if settingKey == ATTRIBUTION_SWEEP_INTERVAL {
		return "30s"
	}
	if settingKey == ATTRIBUTION_WINDOW_HOURS {
		return "48"
	}
	if settingKey == DIGEST_TICK_INTERVAL {
		return "60s"
	}
	if settingKey == RECIPIENT_COOLDOWN_HOURS {
		return "24"
	}
	if settingKey == PREVIEW_SAMPLE_SIZE {
		return "10"
	}
	if settingKey == ESTIMATE_CACHE_TTL {
		return "60s"
	}
	if settingKey == SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./runhub.db"
	}
	return ""
}
