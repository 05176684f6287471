package tokenizer

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// RetrievalMaxLength is the fixed token length of retrieval texts
const RetrievalMaxLength = 35

// backend is the subset of the HuggingFace tokenizer used here
type backend interface {
	EncodeWithOptions(str string, addSpecialTokens bool, opts ...tokenizers.EncodeOption) tokenizers.Encoding
	Decode(tokenIDs []uint32, skipSpecialTokens bool) string
	VocabSize() uint32
	Close() error
}

// BERTTokenizer wraps a HuggingFace tokenizer.json with fixed-length
// padding and right-side truncation
type BERTTokenizer struct {
	tokenizer  backend
	maxLength  int
	padding    bool
	truncation bool

	mu     sync.RWMutex
	added  map[string]uint32
	addedR map[uint32]string
	bos    string
}

// NewBERTTokenizer creates a new BERT tokenizer from a tokenizer.json file
func NewBERTTokenizer(tokenizerPath string, maxLength int) (*BERTTokenizer, error) {
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return newBERTTokenizer(tk, maxLength), nil
}

func newBERTTokenizer(tk backend, maxLength int) *BERTTokenizer {
	return &BERTTokenizer{
		tokenizer:  tk,
		maxLength:  maxLength,
		padding:    true,
		truncation: true,
		added:      make(map[string]uint32),
		addedR:     make(map[uint32]string),
	}
}

// AddSpecialToken registers a token outside the base vocabulary and returns
// its id. Registering the same token twice returns the first id.
func (bt *BERTTokenizer) AddSpecialToken(token string) uint32 {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if id, ok := bt.added[token]; ok {
		return id
	}
	id := bt.tokenizer.VocabSize() + uint32(len(bt.added))
	bt.added[token] = id
	bt.addedR[id] = token
	return id
}

// SetBOSToken registers token as the beginning-of-sequence marker
func (bt *BERTTokenizer) SetBOSToken(token string) uint32 {
	id := bt.AddSpecialToken(token)
	bt.mu.Lock()
	bt.bos = token
	bt.mu.Unlock()
	return id
}

// BOSTokenID returns the id of the registered beginning-of-sequence marker
func (bt *BERTTokenizer) BOSTokenID() (uint32, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	if bt.bos == "" {
		return 0, false
	}
	return bt.added[bt.bos], true
}

// Encode encodes a single text. Special tokens are added by the tokenizer's
// post-processor; truncation keeps the final special token.
func (bt *BERTTokenizer) Encode(text string) ([]int64, []int64, error) {
	encoding := bt.tokenizer.EncodeWithOptions(text, true)

	ids := encoding.IDs
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("tokenizer produced no tokens for %q", text)
	}

	// Truncate if needed
	if bt.truncation && bt.maxLength > 0 && len(ids) > bt.maxLength {
		last := ids[len(ids)-1]
		ids = append(ids[:bt.maxLength-1:bt.maxLength-1], last)
	}

	attentionMask := make([]int64, len(ids))
	for i := range attentionMask {
		attentionMask[i] = 1
	}

	// Pad if needed
	if bt.padding && len(ids) < bt.maxLength {
		padding := make([]uint32, bt.maxLength-len(ids))
		ids = append(ids, padding...)
		paddingMask := make([]int64, bt.maxLength-len(attentionMask))
		attentionMask = append(attentionMask, paddingMask...)
	}

	// Convert to int64
	inputIDs := make([]int64, len(ids))
	for i, id := range ids {
		inputIDs[i] = int64(id)
	}

	return inputIDs, attentionMask, nil
}

// EncodeBatch encodes multiple texts
func (bt *BERTTokenizer) EncodeBatch(texts []string) ([][]int64, [][]int64, error) {
	inputIDs := make([][]int64, len(texts))
	attentionMasks := make([][]int64, len(texts))

	for i, text := range texts {
		ids, mask, err := bt.Encode(text)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode text %d: %w", i, err)
		}
		inputIDs[i] = ids
		attentionMasks[i] = mask
	}

	return inputIDs, attentionMasks, nil
}

// Close releases tokenizer resources
func (bt *BERTTokenizer) Close() error {
	if bt.tokenizer != nil {
		err := bt.tokenizer.Close()
		bt.tokenizer = nil
		return err
	}
	return nil
}

// VocabularySize returns the vocabulary size including registered tokens
func (bt *BERTTokenizer) VocabularySize() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return int(bt.tokenizer.VocabSize()) + len(bt.added)
}

// Decode decodes token IDs back to text. Registered tokens are dropped when
// skipSpecialTokens is set and spelled out otherwise.
func (bt *BERTTokenizer) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	if len(bt.added) == 0 {
		return bt.tokenizer.Decode(ids, skipSpecialTokens), nil
	}

	var (
		out  string
		base []uint32
	)
	flush := func() {
		if len(base) == 0 {
			return
		}
		out += bt.tokenizer.Decode(base, skipSpecialTokens)
		base = base[:0]
	}
	for _, id := range ids {
		token, ok := bt.addedR[id]
		if !ok {
			base = append(base, id)
			continue
		}
		if skipSpecialTokens {
			continue
		}
		flush()
		out += token
	}
	flush()
	return out, nil
}
