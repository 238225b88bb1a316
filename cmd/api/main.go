package main

import (
	"log"
	"net/http"

	"medscan/internal/api"
	"medscan/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	h := api.NewServer(cfg)
	log.Printf("medscan api listening on %s ocr_providers=%q llm_providers=%q embed_providers=%q", cfg.APIAddr, cfg.OCRProviders, cfg.LLMProviders, cfg.EmbedProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
