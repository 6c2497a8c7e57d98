package config

// Chat definition chat_service YAML structure
type Chat struct {
	Port     string         `mapstructure:"port"`
	MongoSQL DatabaseConfig `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DynamoDB DynamoConfig   `mapstructure:"dynamodb"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// DynamoConfig definition dynamodb setting, Endpoint empty means AWS
type DynamoConfig struct {
	Region            string `mapstructure:"region"`
	Endpoint          string `mapstructure:"endpoint"`
	InboxTable        string `mapstructure:"inbox_table"`
	ParticipantsTable string `mapstructure:"participants_table"`
}

// KafkaConfig definition kafka consumer setting
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}
