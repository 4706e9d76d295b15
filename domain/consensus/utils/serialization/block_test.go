package serialization

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

func TestDeserializeBlockRestoresBlock(t *testing.T) {
	parent := NewBlock(1, 4, nil, nil)
	block := NewBlock(2, 5, []model.BlockReference{parent.Reference()}, [][]byte{[]byte("tx1"), []byte("tx2")})

	decoded, err := DeserializeBlock(SerializeBlock(block))
	require.NoError(t, err)
	require.Equal(t, block.Reference(), decoded.Reference())
	require.Equal(t, block.Includes(), decoded.Includes())
	require.Equal(t, block.Statements(), decoded.Statements())
}

func TestNewBlockDigestDependsOnContent(t *testing.T) {
	a := NewBlock(0, 1, nil, [][]byte{[]byte("a")})
	b := NewBlock(0, 1, nil, [][]byte{[]byte("b")})
	again := NewBlock(0, 1, nil, [][]byte{[]byte("a")})

	require.NotEqual(t, a.Digest(), b.Digest())
	require.Equal(t, a.Digest(), again.Digest())
}

func TestDeserializeBlockRejectsTamperedContent(t *testing.T) {
	block := NewBlock(3, 7, nil, [][]byte{[]byte("payload")})
	encoded := SerializeBlock(block)

	// The round varint is the fourth byte of the encoding.
	tampered := append([]byte(nil), encoded...)
	tampered[3]++

	_, err := DeserializeBlock(tampered)
	require.True(t, errors.Is(err, ErrDigestMismatch), "expected a digest mismatch, got %+v", err)
}

func TestDeserializeBlockRejectsGarbage(t *testing.T) {
	inputs := [][]byte{
		{0xff},
		{0x08},
		SerializeBlock(NewBlock(0, 1, nil, nil))[:10],
	}
	for _, input := range inputs {
		_, err := DeserializeBlock(input)
		require.Error(t, err, "input %x", input)
	}
}
