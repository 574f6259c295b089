package indexing

// ChangeDetector はファイル集合とインデックス済みレコードを突き合わせて
// 変更種別を判定する。純粋な比較処理のみを行い、I/Oは持たない。
type ChangeDetector struct{}

// NewChangeDetector はChangeDetectorを作成する
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// Classify は現在のファイル一覧とインデックス済みレコード(パス→レコード)を
// 比較し、新規・変更・未変更・削除に分類する
// 同一パスはコンテンツハッシュの一致で未変更と判定する
func (d *ChangeDetector) Classify(current []*RepoFile, indexed map[string]*FileRecord) *Classification {
	result := &Classification{}

	seen := make(map[string]struct{}, len(current))
	for _, file := range current {
		seen[file.Path] = struct{}{}

		record, ok := indexed[file.Path]
		if !ok {
			result.New = append(result.New, file)
			continue
		}
		if record.ContentHash == file.ContentHash {
			result.Unchanged = append(result.Unchanged, file)
		} else {
			result.Modified = append(result.Modified, file)
		}
	}

	for path, record := range indexed {
		if _, ok := seen[path]; !ok {
			result.Deleted = append(result.Deleted, record)
		}
	}

	return result
}
