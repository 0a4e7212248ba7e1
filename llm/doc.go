// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides unified LLM provider abstraction and routing.

# Overview

The llm package provides a unified interface for interacting with multiple
Large Language Model providers. It abstracts away provider-specific details
and provides features like routing, caching, retry logic, and observability.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Application Layer                        │
	├─────────────────────────────────────────────────────────────┤
	│                    Router / Load Balancer                   │
	│  (Model-based routing, failover, load balancing)           │
	├─────────────────────────────────────────────────────────────┤
	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
	│  │   Cache     │  │   Retry     │  │   Observability     │ │
	│  │ (Middleware)│  │  (Backoff)  │  │  (Metrics/Tracing)  │ │
	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
	├─────────────────────────────────────────────────────────────┤
	│                    Provider Interface                       │
	├──────────┬──────────┬──────────┬──────────┬────────────────┤
	│  OpenAI  │ Anthropic│  Gemini  │ DeepSeek │    Others...   │
	└──────────┴──────────┴──────────┴──────────┴────────────────┘

# Provider Interface

The core Provider interface defines the contract for all LLM providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	}

# Supported Providers

The llm/providers subpackages cover the following providers:

  - OpenAI (GPT-4, GPT-4o, GPT-3.5-turbo)
  - Anthropic (package documentation only; no provider implementation)
  - Google (Gemini Pro, Gemini Ultra)
  - DeepSeek (DeepSeek-Chat, DeepSeek-Coder)
  - Alibaba (Qwen-Turbo, Qwen-Plus, Qwen-Max)
  - Tencent (Hunyuan)
  - Moonshot (Kimi)
  - Zhipu (GLM-4)
  - ByteDance (Doubao)
  - Generic OpenAI-compatible endpoints (openaicompat)
  - MiniMax
  - Mistral
  - Meta (Llama)
  - xAI (Grok)

# Usage

Basic usage with a single provider:

	provider := openai.NewOpenAIProvider(providers.OpenAIConfig{
	    BaseProviderConfig: providers.BaseProviderConfig{
	        APIKey: "your-api-key",
	        Model:  "gpt-4o",
	    },
	}, logger)

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	})

Using the router for multi-provider setup:

	router := llm.NewMultiProviderRouter(db, factory, llm.RouterOptions{Logger: logger})

	// Selects a provider serving the model; the caller then sends the request
	sel, err := router.SelectProviderWithModel(ctx, "gpt-4o", llm.StrategyCostBased)
	if err != nil {
	    log.Fatal(err)
	}
	resp, err := sel.Provider.Completion(ctx, req)

# Streaming

All providers support streaming responses:

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Error != nil {
	        log.Printf("Error: %v", chunk.Error)
	        break
	    }
	    fmt.Print(chunk.Content)
	}

# Observability

Metrics and tracing are middleware in llm/middleware, built over
caller-supplied MetricsCollector and Tracer implementations:

	chain := middleware.NewChain(
	    middleware.MetricsMiddleware(collector),
	    middleware.TracingMiddleware(tracer),
	)

# Tool Calling

Support for native function calling:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {
	            Name:        "get_weather",
	            Description: "Get current weather for a location",
	            Parameters:  weatherParamsSchema,
	        },
	    },
	})

# Error Handling

The package defines structured error codes:

	const (
	    ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	    ErrAuthentication      ErrorCode = "AUTHENTICATION"
	    ErrRateLimit           ErrorCode = "RATE_LIMIT"
	    ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	    ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}

# API Key Management

Support for API key pools with rotation:

	pool := llm.NewAPIKeyPool(db, providerID, llm.StrategyRoundRobin, logger)
	pool.LoadKeys(ctx)
	key, err := pool.SelectKey(ctx)

See the subpackages for additional functionality:
  - llm/budget: Token and cost limits over request, minute, hour and day windows
  - llm/embedding: Embedding provider abstraction
  - llm/factory: Name-to-constructor provider factory
  - llm/gateway: Budget-aware, tiered completion gateway with fallback
  - llm/guardrails: Per-tier request validation
  - llm/middleware: Request/response middleware
  - llm/retry: Retry strategies and backoff
  - llm/providers/*: Provider-specific implementations
*/
package llm
