package senderkey

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
)

// Limits bounds the skipped-key cache and the forward jump of one envelope.
type Limits struct {
	MaxSkip int
	MaxJump int
}

// DefaultLimits match the pairwise ratchet.
var DefaultLimits = Limits{MaxSkip: 500, MaxJump: 2000}

var errNotOwner = errors.New("sender key has no signing private key")

// NewState creates our own chain for group at epoch.
func NewState(group domain.GroupID, self domain.Address, epoch uint32) (domain.SenderKeyState, error) {
	ck := make([]byte, crypto.KeySize)
	if err := crypto.Random(ck); err != nil {
		return domain.SenderKeyState{}, errors.Wrap(err, "sender chain key")
	}
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.SenderKeyState{}, err
	}
	return domain.SenderKeyState{
		GroupID:        group,
		Sender:         self,
		Epoch:          epoch,
		DistributionID: uuid.NewString(),
		ChainKey:       ck,
		SigningPublic:  pub,
		SigningPrivate: &priv,
	}, nil
}

// Distribution returns the shareable form of our chain at its current
// iteration. Members receiving it can read messages from that point on.
func Distribution(st domain.SenderKeyState, members []domain.Address) domain.SenderKeyDistribution {
	return domain.SenderKeyDistribution{
		GroupID:        st.GroupID,
		Epoch:          st.Epoch,
		DistributionID: st.DistributionID,
		ChainKey:       append([]byte(nil), st.ChainKey...),
		Iteration:      st.Iteration,
		SigningPublic:  st.SigningPublic,
		Members:        members,
	}
}

// FromDistribution installs a remote sender's chain.
func FromDistribution(sender domain.Address, d domain.SenderKeyDistribution) (domain.SenderKeyState, error) {
	if len(d.ChainKey) != crypto.KeySize {
		return domain.SenderKeyState{}, errors.Errorf("sender key distribution: chain key length %d", len(d.ChainKey))
	}
	return domain.SenderKeyState{
		GroupID:        d.GroupID,
		Sender:         sender,
		Epoch:          d.Epoch,
		DistributionID: d.DistributionID,
		ChainKey:       append([]byte(nil), d.ChainKey...),
		Iteration:      d.Iteration,
		SigningPublic:  d.SigningPublic,
	}, nil
}

// Encrypt advances our chain one step and returns a signed envelope.
func Encrypt(st *domain.SenderKeyState, plaintext []byte) (domain.GroupEnvelope, error) {
	if st.SigningPrivate == nil {
		return domain.GroupEnvelope{}, errNotOwner
	}
	nextCK, mk := crypto.KDFChain(st.ChainKey)
	defer crypto.Wipe(mk)

	env := domain.GroupEnvelope{
		GroupID: st.GroupID,
		Sender:  st.Sender,
		Epoch:   st.Epoch,
		Step:    st.Iteration,
		Nonce:   crypto.CounterNonce(st.Iteration),
	}
	ct, err := crypto.Seal(mk, env.Nonce, plaintext, associatedData(env))
	if err != nil {
		return domain.GroupEnvelope{}, err
	}
	env.Ciphertext = ct
	env.Signature = crypto.SignEd25519(*st.SigningPrivate, SignedBytes(env))

	crypto.Wipe(st.ChainKey)
	st.ChainKey = nextCK
	st.Iteration++
	return env, nil
}

// Decrypt opens env with the sender's chain. State is committed only on
// success.
func (l Limits) Decrypt(st *domain.SenderKeyState, env domain.GroupEnvelope) ([]byte, error) {
	if env.GroupID != st.GroupID || env.Sender != st.Sender || env.Epoch != st.Epoch {
		return nil, domain.ErrMissingMemberKey
	}
	if !crypto.VerifyEd25519(st.SigningPublic, SignedBytes(env), env.Signature) {
		jww.WARN.Printf("senderkey: bad signature from %s in %s", env.Sender, env.GroupID)
		return nil, domain.ErrRatchetDecryptFailure
	}
	if subtle.ConstantTimeCompare(env.Nonce, crypto.CounterNonce(env.Step)) != 1 {
		return nil, domain.ErrRatchetDecryptFailure
	}

	work := st.Clone()
	mk, err := l.messageKey(&work, env.Step)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(mk)
	pt, err := crypto.Open(mk, env.Nonce, env.Ciphertext, associatedData(env))
	if err != nil {
		return nil, domain.ErrRatchetDecryptFailure
	}
	*st = work
	return pt, nil
}

// Decrypt opens env using DefaultLimits.
func Decrypt(st *domain.SenderKeyState, env domain.GroupEnvelope) ([]byte, error) {
	return DefaultLimits.Decrypt(st, env)
}

func (l Limits) messageKey(st *domain.SenderKeyState, step uint32) ([]byte, error) {
	for i, k := range st.Skipped {
		if k.Step == step {
			st.Skipped = append(st.Skipped[:i:i], st.Skipped[i+1:]...)
			return k.MessageKey, nil
		}
	}
	if step < st.Iteration {
		return nil, domain.ErrMessageTooOld
	}
	if int(step-st.Iteration) > l.MaxJump {
		return nil, domain.ErrTooManySkipped
	}
	for st.Iteration < step {
		nextCK, mk := crypto.KDFChain(st.ChainKey)
		crypto.Wipe(st.ChainKey)
		st.ChainKey = nextCK
		st.Skipped = append(st.Skipped, domain.SkippedGroupKey{Step: st.Iteration, MessageKey: mk})
		st.Iteration++
	}
	if over := len(st.Skipped) - l.MaxSkip; over > 0 {
		for i := 0; i < over; i++ {
			crypto.Wipe(st.Skipped[i].MessageKey)
		}
		st.Skipped = append([]domain.SkippedGroupKey(nil), st.Skipped[over:]...)
	}
	nextCK, mk := crypto.KDFChain(st.ChainKey)
	crypto.Wipe(st.ChainKey)
	st.ChainKey = nextCK
	st.Iteration++
	return mk, nil
}

// SignedBytes is the canonical encoding covered by the sender signature:
// every field except the signature, the transport id and the timestamp.
func SignedBytes(env domain.GroupEnvelope) []byte {
	out := associatedData(env)
	out = appendField(out, env.Nonce)
	return appendField(out, env.Ciphertext)
}

func associatedData(env domain.GroupEnvelope) []byte {
	out := make([]byte, 0, 64+len(env.GroupID))
	out = append(out, "cipherkit-group"...)
	out = appendField(out, []byte(env.GroupID))
	out = appendField(out, []byte(env.Sender.String()))
	out = binary.BigEndian.AppendUint32(out, env.Epoch)
	return binary.BigEndian.AppendUint32(out, env.Step)
}

func appendField(out, field []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(field)))
	return append(out, field...)
}
