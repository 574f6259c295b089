package indexing

import "context"

// Embedder はテキストの埋め込みベクトル生成器のインターフェース
type Embedder interface {
	// Embed は単一テキストの埋め込みベクトルを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed は複数テキストの埋め込みベクトルを一括生成する
	// 返却されるベクトルは入力と同じ順序を保つ
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName は使用しているモデル名を返す
	ModelName() string

	// Dimension は埋め込みベクトルの次元数を返す
	Dimension() int

	// MaxBatchSize は一括処理可能な最大テキスト数を返す
	MaxBatchSize() int
}
