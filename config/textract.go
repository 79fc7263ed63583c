package config

import "os"

// TextractConfig holds credentials for the AWS Textract OCR engine.
type TextractConfig struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

func (c *TextractConfig) loadEnv() {
	setIf(&c.Region, os.Getenv("AWS_REGION"))
	setIf(&c.Endpoint, os.Getenv("AWS_ENDPOINT"))
	setIf(&c.AccessKey, os.Getenv("AWS_ACCESS_KEY"))
	setIf(&c.SecretKey, os.Getenv("AWS_SECRET_KEY"))
}
