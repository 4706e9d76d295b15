package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/util/network"
)

// CommitteeMember is a single authority entry of the committee file. The
// authority index of a member is its position in the file.
type CommitteeMember struct {
	Stake   uint64 `toml:"stake"`
	Address string `toml:"address"`
}

// CommitteeFile is the parsed content of a committee file:
//
// 	[[authority]]
// 	stake = 1
// 	address = "10.0.0.1:16611"
type CommitteeFile struct {
	Members []CommitteeMember `toml:"authority"`
}

// LoadCommitteeFile reads and validates the committee file at path
func LoadCommitteeFile(path string) (*CommitteeFile, error) {
	committeeFile := &CommitteeFile{}
	metadata, err := toml.DecodeFile(path, committeeFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse committee file %s", path)
	}
	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, errors.Errorf("unknown keys in committee file %s: %s", path, strings.Join(keys, ", "))
	}

	err = committeeFile.validate()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid committee file %s", path)
	}
	log.Debugf("Loaded a committee of %d authorities from %s", len(committeeFile.Members), path)
	return committeeFile, nil
}

func (cf *CommitteeFile) validate() error {
	if len(cf.Members) == 0 {
		return errors.New("no authorities are listed")
	}
	addresses := make(map[string]int, len(cf.Members))
	for i, member := range cf.Members {
		if member.Address == "" {
			return errors.Errorf("authority %d has no address", i)
		}
		address, err := network.NormalizeAddress(member.Address, network.DefaultPort)
		if err != nil {
			return errors.Wrapf(err, "authority %d", i)
		}
		cf.Members[i].Address = address
		member.Address = address
		if other, ok := addresses[member.Address]; ok {
			return errors.Errorf("authorities %d and %d share the address %s", other, i, member.Address)
		}
		addresses[member.Address] = i
	}
	_, err := cf.Committee()
	return err
}

// Committee returns the consensus committee described by the file
func (cf *CommitteeFile) Committee() (*model.Committee, error) {
	stakes := make([]model.Stake, len(cf.Members))
	for i, member := range cf.Members {
		stakes[i] = model.Stake(member.Stake)
	}
	return model.NewCommittee(stakes)
}
