package utils

import (
	"errors"
	"os"
	"path"

	"github.com/Trinoooo/eggie_epoll/errs"
)

func CheckAndCreateDir(dir string) error {
	_, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err = os.MkdirAll(dir, 0770); err != nil {
			return errs.NewMkdirErr().WithErr(err)
		}
	} else if err != nil {
		return errs.NewFileStatErr().WithErr(err)
	}
	return nil
}

func CheckAndCreateFile(filePath string, flag int, perm os.FileMode) (*os.File, error) {
	dir, _ := path.Split(filePath)
	if err := CheckAndCreateDir(dir); err != nil {
		return nil, err
	}

	fd, err := os.OpenFile(filePath, flag, perm)
	if err != nil {
		return nil, errs.NewOpenFileErr().WithErr(err)
	}
	return fd, nil
}
